// Package interfaces defines the domain types shared by the custodian
// node service, the client orchestrators and the storage backends, the
// protocol error taxonomy, and the contracts for external collaborators
// (share stores, the node directory, and the recovery mail sender).
//
// Keeping these definitions in one dependency-free package lets every
// other package agree on types without import cycles, mirroring the role
// the package plays for the provisioning services this module grew out of.
package interfaces
