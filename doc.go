// Package accounts provides the account lifecycle primitives for a membership
// platform: provisioning identities with their role specific profile, forcing a
// credential rotation on first login, and deprovisioning users together with
// every record that references them.
//
// Identity and profile stores:
//   - An Identity lives in an external authentication store (IdentityStore).
//     Profiles live in a relational store (ProfileRepository). The two share no
//     transaction so provisioning runs as a saga: every step that touched the
//     identity store is compensated when a later step fails.
//   - Member profiles are materialized by a store owned trigger that fires on
//     identity insert. The saga observes that trigger only through polling
//     reads, with a configurable warm-up, attempt count and delay.
//
// Deprovisioning:
//   - DeleteUser removes the profile and the identity, then runs every
//     DependentResourceCleaner on its own. Cleanup failures never abort the
//     deletion; they surface as warnings on the DeletionSummary.
//   - BulkDeleteUsers does the same for a set of ids with batched profile and
//     cleanup statements and bounded, rate limited identity deletes.
//
// Credential rotation:
//   - RotationGate tracks NORMAL and MUST_ROTATE sessions. While a session must
//     rotate, every route except the rotation form and sign out redirects to
//     the rotation form.
//
// Activity sinks:
//   - ActivitySink receives provisioning, deprovisioning and rotation events.
//     Sinks run best-effort (errors are logged) so audit trails never block an
//     account operation.
package accounts
