// Package relay forwards conversion events to Redis so that processes other
// than the converter can follow a job and read the last job summary.
package relay
