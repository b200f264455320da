// Package gps reads a GNSS receiver and exposes it as the location and
// satellite feeds consumed by the GDL90 server.
//
// Two sources are supported:
//   - nmea: a USB/serial receiver emitting NMEA 0183 (RMC, GGA, GSA, GSV, GST)
//   - gpsd: a local gpsd daemon streaming TPV and SKY reports
//
// The reader only runs while at least one subscription is active.
package gps
