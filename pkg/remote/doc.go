// Package remote defines the connector's port onto the identity-governance
// system and its concrete HTTP binding.
//
// The engine only sees the Provider interface and the typed error kinds;
// retry policy dispatches on the error Kind classified at this boundary,
// never on message content.
package remote
