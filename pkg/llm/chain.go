package llm

// Middleware wraps a Client with additional behavior. Middlewares compose
// with Chain to form a processing pipeline around a base client.
type Middleware func(next Client) Client

// Chain composes middlewares around a base Client. Middlewares are applied in
// order, with earlier middlewares outermost:
//
//	Chain(client, mw1, mw2) => mw1 -> mw2 -> client
//
// so mw1 sees every request first and every response last.
func Chain(base Client, middlewares ...Middleware) Client {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		client = middlewares[i](client)
	}
	return client
}
