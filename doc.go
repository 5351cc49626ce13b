// Package access resolves who is using the app and what they may see.
//
// Access state:
//   - StateMachine owns the single AccessState. It resolves the session from an
//     AuthProvider on Start, follows identity changes, and fetches the Profile
//     that decides the Role (guest, standard, premium, admin). Listeners and
//     WaitUntil observe every transition.
//   - A profile fetch that fails or times out degrades to the standard role.
//     Stale fetches from an earlier identity are discarded.
//
// Routing and content:
//   - RouteGuard maps a Capability to allow, redirect, or wait while the state
//     is still loading. LandingRoute picks the post sign in destination.
//   - ContentGate decides which recipes are locked for a role, and
//     RecipeCatalog caches recipe lookups in front of the repository.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the state machine,
//     the guard, and the gate. Sinks run best-effort (errors are logged) so
//     you can forward to a database or queue without blocking navigation.
//
// The social package provides the session-backed AuthProvider with OAuth and
// emailed one time codes.
package access
