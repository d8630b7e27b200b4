// Package config defines the configuration of an S2 relay node.
//
// Whether the node is embedded in Go code or started with the s2 command, it
// is configured through the Config object defined in this package. On top of
// these options, the node relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  priv_key   // a plain text file containing the raw private key (cf. s2 keygen).
//  seeds.json // (optional) a JSON list of authoritative nodes to dial on start.
//  s2.toml    // (optional) values for any of the command line flags.
//  s2.log     // written when LogFile is set.
package config
