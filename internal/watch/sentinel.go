package watch

// signalBinding is the CDP binding the sentinel calls to report DOM/URL
// signal changes back to the agent.
const signalBinding = "__companionSignal"

// sentinelJS is installed into every in-scope page (and re-installed on
// navigation via Page.addScriptToEvaluateOnNewDocument). It samples the
// DOM signals the classifier cares about, coalesces bursts through a
// 100 ms debounce, and reports through the signal binding. The payload
// carries the href it was sampled at so stale reports can be discarded.
const sentinelJS = `(function(){
if (window.__companionSentinel) { return; }
window.__companionSentinel = true;
var pending = null;
function sample() {
  var probe = { href: location.href, open_card_id: "", breadcrumb: "" };
  try {
    var modal = document.querySelector('[id^="card-details-modal-"]');
    if (modal && modal.id) { probe.open_card_id = modal.id.slice("card-details-modal-".length); }
  } catch(_) {}
  try {
    var crumb = document.querySelector('[data-breadcrumb-id]');
    if (crumb) { probe.breadcrumb = crumb.getAttribute('data-breadcrumb-id') || ""; }
  } catch(_) {}
  return probe;
}
function emit() {
  pending = null;
  if (typeof window.` + signalBinding + ` === "function") {
    try { window.` + signalBinding + `(JSON.stringify(sample())); } catch(_) {}
  }
}
function schedule() {
  if (pending) { return; }
  pending = setTimeout(emit, 100);
}
var mo = new MutationObserver(schedule);
mo.observe(document.documentElement, {childList:true, subtree:true, attributes:true, attributeFilter:["id","data-breadcrumb-id"]});
var origPush = history.pushState;
history.pushState = function(){ origPush.apply(this, arguments); schedule(); };
var origReplace = history.replaceState;
history.replaceState = function(){ origReplace.apply(this, arguments); schedule(); };
window.addEventListener("popstate", schedule);
schedule();
})()`

// appStudioRefineJS resolves whether an app-studio view is a packaged app
// or a data app. Runs in the page world so the request rides the user's
// session.
const appStudioRefineJS = `async function(viewId) {
  var resp = await fetch("/api/content/v1/dataapps/" + encodeURIComponent(viewId), {credentials: "include"});
  if (resp.status === 404) { return { data_app: false }; }
  if (!resp.ok) { throw new Error("dataapps lookup failed: HTTP " + resp.status); }
  return { data_app: true };
}`
