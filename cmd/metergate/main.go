// Package main is the entry point for metergate, a usage metering and
// admission control service for multi-tenant event ingestion.
package main

func main() {
	Execute()
}
