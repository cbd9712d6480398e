/*
Package metrics exposes Prometheus metrics for Weft.

All collectors are package-level variables registered with the default
Prometheus registry at init time and served through Handler(), which the agent
mounts at /metrics.

# Metric Groups

	Registry:
	  weft_clusters_known            gauge
	  weft_services_known            gauge
	  weft_clusters_evicted_total    counter

	Data plane:
	  weft_tunnels_active            gauge
	  weft_tunnels_total             counter, label result=ok|error|no_route
	  weft_relay_bytes_total         counter, label direction=up|down

	Control plane:
	  weft_discovery_refresh_total   counter, label result=ok|error
	  weft_gossip_exchanges_total    counter, label result=ok|error
*/
package metrics
