// Package admin is the mutation surface for job definitions.
//
// Every operation is performed on behalf of a user and is refused with
// core.ErrForbidden unless the tenant registry lists that user as an admin
// of the tenant. Definitions are validated completely before they are
// stored, so a malformed recurrence, time of day, timezone or target never
// reaches the scheduler.
//
// Basic usage:
//
//	svc := admin.New(store, store)
//	def, err := svc.Create(ctx, "U_ADMIN", admin.CreateRequest{
//	    TenantID:  "acme",
//	    Kind:      core.KindStandup,
//	    TimeOfDay: "09:30",
//	    TargetRef: "#team",
//	})
package admin
