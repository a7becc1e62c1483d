// Package specfile loads restructuring specs from CUE documents.
//
// A spec document is ordinary CUE with an optional "meta" header and
// a required "spec" field. The spec body compiles structurally into
// engine spec values: strings become dotted access paths, maps become
// mapping specs, lists become sequence templates, and directive maps
// ("$lit", "$pipe", "$coalesce", "$spec", "$fn", "$path", "$let",
// "$var") select the corresponding engine spec kinds. "$fn" bodies
// are Starlark expressions evaluated with the current target bound to
// the name `target`.
//
//	meta: {
//		name: "post-titles"
//	}
//	spec: {
//		titles: {"$pipe": ["galaxy.system.posts", ["title"]]}
//		source: {"$lit": "galaxy"}
//	}
package specfile
