// Package toolhost lets an LLM-driven agent discover and invoke external
// tool servers, with risky invocations gated behind asynchronous human
// approval.
//
// A Host manages tool servers over two transports (subprocess stdio and
// HTTP+SSE), aggregates their tools into one namespaced catalog, and
// drives a bounded reasoning-action loop against a completion API. Tool
// calls the risk policy flags are parked as pending confirmations; the
// loop suspends as plain data and resumes when a human approves,
// rejects, or the request times out.
//
// Minimal use:
//
//	host := toolhost.New(toolhost.WithCompletionClient(client))
//	host.StartServer(ctx, "files", mcp.ServerConfig{Command: "file-server"})
//	stream, _ := host.Chat(ctx, "", "delete /tmp/scratch")
//	for stream.Next() {
//	    switch ev := stream.Current().(type) {
//	    case *toolhost.ConfirmationRequiredEvent:
//	        host.ResolveConfirmation(ctx, ev.Request.ID, true, nil)
//	    case *toolhost.FinalEvent:
//	        fmt.Println(ev.Text)
//	    }
//	}
package toolhost
