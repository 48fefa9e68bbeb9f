package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the registry query surface. Descriptions are
// written for the calling model: they say what fact comes back and
// what a miss looks like.

func listRoutesTool() mcp.Tool {
	return mcp.NewTool("list_routes",
		mcp.WithDescription("List every route extracted from the workspace routers, in file and line order."),
	)
}

func getRouteTool() mcp.Tool {
	return mcp.NewTool("get_route",
		mcp.WithDescription("Find routes whose path matches exactly. Empty result when no route has that path."),
		mcp.WithString("path", mcp.Required(),
			mcp.Description("Route path with parameter segments, e.g. /users/:id")),
	)
}

func routeHelperTool() mcp.Tool {
	return mcp.NewTool("route_helper",
		mcp.WithDescription("All routes grouped under one helper base name. A miss includes nearby helper names as suggestions."),
		mcp.WithString("helper", mcp.Required(),
			mcp.Description("Helper base name, e.g. user or user_post")),
	)
}

func liveRoutesTool() mcp.Tool {
	return mcp.NewTool("live_routes",
		mcp.WithDescription("List the LiveView mounts declared via the live macro."),
	)
}

func forwardRoutesTool() mcp.Tool {
	return mcp.NewTool("forward_routes",
		mcp.WithDescription("List the forward routes and their target plugs."),
	)
}

func resourceActionsTool() mcp.Tool {
	return mcp.NewTool("resource_actions",
		mcp.WithDescription("Distinct controller actions declared for a helper base, e.g. the REST actions a resources macro expanded to."),
		mcp.WithString("helper", mcp.Required(),
			mcp.Description("Helper base name of the resource")),
	)
}

func resolveComponentTool() mcp.Tool {
	return mcp.NewTool("resolve_component",
		mcp.WithDescription("Resolve a function component usage to its declaration: attrs, slots and docs. Unresolved names return suggestions."),
		mcp.WithString("name", mcp.Required(),
			mcp.Description("Component function name, e.g. button")),
		mcp.WithString("module",
			mcp.Description("Module from a remote call like <Mod.button>; empty for a local <.button> call")),
		mcp.WithString("file",
			mcp.Description("File containing the call; local components there win and anchor the workspace search")),
		mcp.WithString("content",
			mcp.Description("Unsaved content of that file; consulted when the file is not indexed yet")),
	)
}

func listComponentsTool() mcp.Tool {
	return mcp.NewTool("list_components",
		mcp.WithDescription("List every function component declared in the workspace."),
	)
}

func fileComponentsTool() mcp.Tool {
	return mcp.NewTool("file_components",
		mcp.WithDescription("Components declared in one source file."),
		mcp.WithString("path", mcp.Required(),
			mcp.Description("Source file path as indexed")),
	)
}

func getSchemaTool() mcp.Tool {
	return mcp.NewTool("get_schema",
		mcp.WithDescription("Fields and associations of one Ecto schema module."),
		mcp.WithString("module", mcp.Required(),
			mcp.Description("Schema module, fully qualified or a unique suffix")),
	)
}

func schemaFieldsTool() mcp.Tool {
	return mcp.NewTool("schema_fields",
		mcp.WithDescription("Fields reachable by walking a dotted association path from a model. Empty past the first unresolvable hop."),
		mcp.WithString("model", mcp.Required(),
			mcp.Description("Starting schema module")),
		mcp.WithString("path",
			mcp.Description("Dotted association path, e.g. profile or author.company")),
	)
}

func resolveAliasTool() mcp.Tool {
	return mcp.NewTool("resolve_alias",
		mcp.WithDescription("Expand a short schema name to its fully qualified module. Empty when nothing known matches."),
		mcp.WithString("name", mcp.Required(),
			mcp.Description("Short name as written in source, e.g. Profile")),
		mcp.WithString("context",
			mcp.Description("Module whose alias table to consult first")),
	)
}

func templateEventsTool() mcp.Tool {
	return mcp.NewTool("template_events",
		mcp.WithDescription("Event handlers visible to a template, with each handler's clause source: its own module's handlers first, every other handler second."),
		mcp.WithString("path", mcp.Required(),
			mcp.Description("Template file path as indexed")),
	)
}

func eventExistsTool() mcp.Tool {
	return mcp.NewTool("event_exists",
		mcp.WithDescription("Whether any handle_event clause handles this event name. A miss includes nearby names."),
		mcp.WithString("name", mcp.Required(),
			mcp.Description("Event name as referenced by phx-click and friends")),
	)
}

func unusedHandlersTool() mcp.Tool {
	return mcp.NewTool("unused_handlers",
		mcp.WithDescription("UI event handlers no template of their module references."),
		mcp.WithString("module",
			mcp.Description("Narrow the report to one module; empty covers the workspace")),
	)
}

func getTemplateTool() mcp.Tool {
	return mcp.NewTool("get_template",
		mcp.WithDescription("Find a template by owning module and name, optionally narrowed by format."),
		mcp.WithString("module", mcp.Required(),
			mcp.Description("Owning module suffix, e.g. PageHTML")),
		mcp.WithString("name", mcp.Required(),
			mcp.Description("Template name without extensions, e.g. home")),
		mcp.WithString("format",
			mcp.Description("Template format, e.g. html; empty matches any")),
	)
}

func templateUsageTool() mcp.Tool {
	return mcp.NewTool("template_usage",
		mcp.WithDescription("Assigns flowing into a template: each assign key with the controller render sites that supply it."),
		mcp.WithString("path", mcp.Required(),
			mcp.Description("Template file path as indexed")),
	)
}

func scanStatusTool() mcp.Tool {
	return mcp.NewTool("scan_status",
		mcp.WithDescription("Workspace root, last scan stats, and per-registry fact counts."),
	)
}
