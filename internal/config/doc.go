// Package config defines the vmstate configuration file and its defaults.
//
// Configuration is read by confloader from a YAML file and VMSTATE_
// environment variables. Example:
//
//	engine:
//	  max_checkpoints: 10
//	  snapshot_retention: 5
//	  hash_algorithm: sha256
//	  checkpoint_interval: 30s
//	recovery:
//	  auto_recover_every: 1m
//	archive:
//	  cipher: chacha20-poly1305
//	metrics:
//	  addr: 127.0.0.1:9464
//	log:
//	  level: info
//	  format: text
package config
