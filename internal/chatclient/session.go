package chatclient

import "context"

// Mount opens a chat session for the duration of fn, the way a hosting UI
// mounts the chat panel next to a call. The connection is released when fn
// returns, fails or panics. A connect failure is returned without calling fn.
func Mount(ctx context.Context, url, user string, fn func(*Client) error, opts ...Option) error {
	c := New(url, user, opts...)
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	return fn(c)
}
