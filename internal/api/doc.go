// Package api is the bridge's local HTTP API.
//
// Routes (all under /api/v1):
//
//	GET    /health                                       liveness, MQTT state
//	GET    /metrics                                      pool, counters, runtime
//	GET    /peers                                        connected peers
//	GET    /peers/{address}/attributes                   recorded attributes
//	POST   /peers/{address}/attributes/{handle}          write {"value":"01"}
//	DELETE /peers/{address}/attributes/{handle}/subscription
//	GET    /bonds                                        bond list
//	POST   /bonds                                        add {"address","name"}
//	DELETE /bonds/{address}
//	GET    /events                                       event log
//	GET    /ws                                           live event stream
//
// Writes go through the same dispatcher as MQTT control messages, so
// busy and unknown-peer rejections are identical. Bond changes are only
// possible when the bond source is editable (the sqlite source).
//
// When api.token or api.jwt_secret is set every route but /health requires
// a bearer token or, for the WebSocket, a token query parameter. The token is
// either the static api.token or an HS256 access token signed with
// api.jwt_secret carrying a subject and role.
package api
