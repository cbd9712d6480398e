/*
Package config defines the YAML configuration for weft processes.

Two top-level shapes exist, one per binary: ProxyConfig (data plane + control
plane) and AgentConfig (control plane only). Both share the transport,
discovery, gossip and timeout sections. Durations are written in Go syntax
("30s", "1m30s").

Example proxy configuration:

	cluster_id: us-west
	bind_address: 127.0.0.1:15001
	status_address: 127.0.0.1:15002
	transport:
	  listen_address: 0.0.0.0:7411
	  key_path: /var/lib/weft/identity.key
	discovery:
	  refresh_interval: 30s
	  register_interval: 60s
	  static_services:
	    - {name: api, namespace: default, port: 8080, protocol: TCP}
	gossip:
	  interval: 60s
	  seeds:
	    - id: 9f3a1c...
	      direct_addrs: ["203.0.113.7:7411"]
	timeouts:
	  dial_timeout: 10s
	  idle_timeout: 5m
	  shutdown_grace: 15s

Validation distinguishes startup-fatal mistakes (empty cluster ID, unparseable
addresses, non-positive intervals) from conditions handled at runtime.
*/
package config
