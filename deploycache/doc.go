// Package deploycache memoizes one-time on-chain deployments.
//
// A [Cache] guarantees that the deployment action for a given [Key] runs at
// most once at a time, and that once it succeeds the resulting address is
// served to every later caller without submitting another transaction.
// Concurrent callers for the same key attach to the in-flight attempt and
// receive its outcome.
//
// # Usage
//
//	c := deploycache.New()
//
//	key := deploycache.NewKey("CloneFactory", signer, bytecode, args)
//	addr, err := c.GetOrDeploy(ctx, key, func(ctx context.Context) (common.Address, error) {
//	    return client.Deploy(ctx, bytecode, args)
//	})
//
// # Failures
//
// Failed attempts are not memoized. Every caller attached to the failed
// attempt receives the same error, and the next call runs the deployment
// again. An attempt whose leader context is cancelled is treated the same
// way; callers whose own context is still live start a fresh attempt rather
// than inheriting someone else's cancellation.
package deploycache
