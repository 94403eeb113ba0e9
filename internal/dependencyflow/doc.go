// Package dependencyflow holds the work items that move dependency updates
// between repositories: a new build triggers the subscriptions that consume
// it, each subscription update lands in its target's pull request, and that
// pull request is checked until it closes. Build coherency and backflow
// validation run as standalone items.
//
// Everything that touches one target repository/branch pair runs under the
// synchronization key PullRequestUpdater_<updater id>, so no two workers edit
// the same pull request at once. State lives in a Pebble-backed Ledger that
// processors consult before acting, which keeps redelivered items harmless.
package dependencyflow
