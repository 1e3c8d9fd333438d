// Package rbac implements role-based authorization for the school platform.
//
// Permissions are capabilities (module, action, optional resource) bounded
// by a scope; roles bundle permissions; assignments grant roles to
// principals, optionally with an expiry and a JSON context that narrows
// GROUP and DEPARTMENT scopes. The Resolver answers access checks from a
// cached per-principal permission set and fails closed. The Manager carries
// the administrative operations and keeps the cache coherent: any mutation
// that changes effective permissions invalidates the affected entries
// before it returns.
//
// Typical wiring:
//
//	store := rbac.NewSQLStore(db)
//	cache := rbac.NewStoreDecisionCache(db, time.Hour)
//	resolver := rbac.NewResolver(rbac.ResolverConfig{
//	    Store:      store,
//	    Cache:      cache,
//	    Principals: auth.NewSQLPrincipalStore(db),
//	    Logger:     logger,
//	})
//	guard := rbac.NewGuard(resolver, logger)
//
//	router.Handle("/grades", handler).Methods("GET")
//	router.Use(guard.Require(rbac.Requirement{Module: "grades", Action: "read"}))
package rbac
