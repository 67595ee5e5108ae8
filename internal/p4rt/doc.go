// Package p4rt is the switch connection: a thin P4Runtime client over gRPC.
//
// It speaks in pipeline terms. Table writes arrive as names and 16-bit
// values and are encoded here into ids and canonical byte strings. Every
// RPC is counted in tablesync_p4rt_requests_total by gRPC status code.
//
// One Client talks to one device as one controller (device id plus election
// id, default role). It does not retry: a failed Write is reported once as a
// WriteError covering the whole batch.
package p4rt
