// The agent command runs the GroupAuth TEE agent: it derives an identity key
// from the dstack guest KMS, registers it on the GroupAuth contract if not
// already a member, and then watches the registry, onboarding every new
// member with the encrypted group secret.
//
// Configuration comes from flags or their environment counterparts (RPC_URL,
// GROUPAUTH_ADDRESS, GROUP_SECRET, POLL_INTERVAL, DSTACK_ENDPOINT). A status
// endpoint is served on the listen address and Prometheus metrics on the
// metrics address.
package main
