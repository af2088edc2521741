package widget

// serializeJS defines window.__consoleWidget.serialize, which turns an
// element into the botturn.Node JSON shape and tags it with a stable id.
const serializeJS = `
const w = window.__consoleWidget || (window.__consoleWidget = { seq: 0, buf: [] });
w.idOf = (el) => {
	if (!el.dataset.consoleId) el.dataset.consoleId = 'n' + (++w.seq);
	return el.dataset.consoleId;
};
w.serialize = (node) => {
	if (node.nodeType === Node.TEXT_NODE) return { tag: '#text', text: node.textContent };
	if (node.nodeType !== Node.ELEMENT_NODE) return null;
	const attrs = {};
	for (const a of node.attributes) {
		if (a.name === 'class' || a.name === 'data-console-id') continue;
		attrs[a.name] = a.value;
	}
	const children = [];
	for (const c of node.childNodes) {
		const s = w.serialize(c);
		if (s) children.push(s);
	}
	return {
		id: w.idOf(node),
		tag: node.tagName.toLowerCase(),
		classes: Array.from(node.classList),
		attrs: attrs,
		children: children,
	};
};
`

const snapshotJS = `(selector) => {
` + serializeJS + `
	const root = document.querySelector(selector);
	if (!root) return null;
	return window.__consoleWidget.serialize(root);
}`

// installJS observes the container. Each changed message element is
// re-serialized whole and queued under its nearest already-known ancestor.
const installJS = `(selector) => {
` + serializeJS + `
	const root = document.querySelector(selector);
	if (!root) return false;
	if (w.observer) w.observer.disconnect();
	const messageOf = (n) => {
		const el = n.nodeType === Node.ELEMENT_NODE ? n : n.parentElement;
		if (!el) return null;
		return el.closest('[class*="message"],[data-author],[data-role]') || el;
	};
	const known = (el) => {
		let child = el;
		let p = el.parentElement;
		while (p && p !== root && !p.dataset.consoleId) { child = p; p = p.parentElement; }
		return { parent: p || root, child: child };
	};
	w.observer = new MutationObserver((records) => {
		const seen = new Set();
		for (const r of records) {
			const nodes = r.type === 'characterData' ? [r.target] : Array.from(r.addedNodes);
			for (const n of nodes) {
				const msg = messageOf(n);
				if (!msg || !root.contains(msg) || msg === root || seen.has(msg)) continue;
				seen.add(msg);
				const k = known(msg);
				const s = w.serialize(k.child);
				if (s) w.buf.push({ target: w.idOf(k.parent), added: [s] });
			}
		}
	});
	w.observer.observe(root, { childList: true, subtree: true, characterData: true });
	return true;
}`

const drainJS = `() => {
	const w = window.__consoleWidget;
	if (!w || !Array.isArray(w.buf)) return [];
	const out = w.buf;
	w.buf = [];
	return out;
}`
