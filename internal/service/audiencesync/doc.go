// Package audiencesync pushes eligible CRM leads into their ad-platform
// audiences.
//
// A run collects leads changed since the audience's last sync, hashes their
// identifiers, queues them as pending members, claims every pending member
// under a fresh token and uploads the claimed set. Every run, successful or
// not, leaves exactly one sync log behind. Failures are reported through the
// returned SyncResult; only a missing audience surfaces as an error.
//
// Repository implementations live in repository/postgres/.
package audiencesync
