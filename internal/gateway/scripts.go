package gateway

// fetchJSONJS runs inside the page scripting world, so the user's session
// cookies ride along on same-origin requests. Non-OK responses throw with
// a message shaped "HTTP <status> <method> <path>" for stable parsing.
const fetchJSONJS = `async function(method, path, body) {
	var opts = { method: method, credentials: "include", headers: { "Accept": "application/json" } };
	if (body !== undefined && body !== null) {
		opts.headers["Content-Type"] = "application/json";
		opts.body = JSON.stringify(body);
	}
	var res = await fetch(path, opts);
	if (!res.ok) {
		throw new Error("HTTP " + res.status + " " + method + " " + path);
	}
	if (res.status === 204) { return null; }
	return await res.json();
}`

// bootstrapJS reads the per-page bootstrap object the platform exposes.
// Returns null when the page has none, which callers treat as "cannot
// compute a preserve set for this instance".
const bootstrapJS = `function() {
	var b = window.bootstrap;
	if (!b) { return null; }
	var env = b.environmentId || (b.data && b.data.environmentId) || "";
	var company = b.company || (b.data && b.data.company) || "";
	if (!env && !company) { return null; }
	return { environment_id: String(env), company: String(company) };
}`
