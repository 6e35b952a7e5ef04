// Package vectorstore stores embedded page chunks per tenant and answers
// similarity queries against them.
//
// Two providers implement VectorIndex: ChromemIndex (embedded, the default)
// and QdrantIndex (external gRPC server).
//
// # Tenant isolation
//
// Every operation reads the tenant from ctx and fails closed with
// ErrMissingTenant when it is absent. Tenant metadata on records is always
// overwritten from ctx, and user filters may not name tenant_id.
//
//	ctx = vectorstore.WithTenantID(ctx, "acme")
//
// # Generations
//
// A tenant's index is replaced as a whole. Writers stage records under a fresh
// generation, call Promote to flip the tenant's pointer, and then drop the old
// generations:
//
//	gen := "0193f1c2a8b07c3e9d1e2f3a4b5c6d7e"
//	if err := idx.Upsert(ctx, gen, records); err != nil {
//	    return err // current generation untouched
//	}
//	prev, err := idx.Promote(ctx, gen)
//	...
//	_ = idx.DropGeneration(ctx, prev)
//
// Search and Count only ever see the current generation, so readers never
// observe a half-written replacement.
package vectorstore
