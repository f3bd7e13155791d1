// Package remote connects an engine to a backend running in another
// process. The backend serves websocket connections (see backend.Handler);
// every binary message is a chunk of the RPC stream.
//
//	c, err := remote.Dial(ctx, "ws://127.0.0.1:9001/rpc", remote.Options{})
//	e, err := engine.New(ctx, c, engine.Options{Mode: engine.ModeRemote})
//
// Read and write failures abort the engine with a transport error.
package remote
