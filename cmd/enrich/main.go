package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"sentinel-lab/internal/domain/services"
	"sentinel-lab/internal/infrastructure/memory"
	"sentinel-lab/internal/providers"
	"sentinel-lab/pkg/logger"
)

func main() {
	ip := flag.String("ip", "", "IP address to enrich")
	home := flag.String("home", "ZA", "home country code for threat scoring")
	timeout := flag.Duration("timeout", 30*time.Second, "overall lookup timeout")
	flag.Parse()

	if *ip == "" && flag.NArg() > 0 {
		*ip = flag.Arg(0)
	}
	if *ip == "" {
		fmt.Fprintln(os.Stderr, "usage: enrich [-home CC] [-timeout 30s] <ip>")
		os.Exit(2)
	}

	// Initialize logger
	log := logger.NewDevelopment()

	fmt.Println("===========================================")
	fmt.Println("Sentinel Enrichment Lookup")
	fmt.Println("===========================================")
	fmt.Printf("IP: %s\n", *ip)
	fmt.Printf("Home country: %s\n", *home)
	fmt.Println()

	// One-shot lookup, nothing needs to persist
	store := memory.New()
	scorer := services.NewScorer(*home, log)
	enrichment := services.NewEnrichmentService(store, scorer, time.Hour, log)

	// ipapi.co is keyless and always available
	enrichment.RegisterProvider(providers.NewGeoIPProvider(log))

	// Keyed providers skip themselves when no credential is set
	abuseipdb := providers.NewAbuseIPDBProvider(log)
	if key := os.Getenv("SENTINEL_PROVIDERS_ABUSEIPDB_API_KEY"); key != "" {
		if err := abuseipdb.Configure(providers.Config{Enabled: true, APIKey: key}); err != nil {
			fmt.Printf("❌ Failed to configure AbuseIPDB: %v\n", err)
		}
	} else {
		fmt.Println("⚠️  SENTINEL_PROVIDERS_ABUSEIPDB_API_KEY not set, abuse data will be empty")
	}
	enrichment.RegisterProvider(abuseipdb)

	shodan := providers.NewShodanProvider(log)
	if key := os.Getenv("SENTINEL_PROVIDERS_SHODAN_API_KEY"); key != "" {
		if err := shodan.Configure(providers.Config{Enabled: true, APIKey: key}); err != nil {
			fmt.Printf("❌ Failed to configure Shodan: %v\n", err)
		}
	} else {
		fmt.Println("⚠️  SENTINEL_PROVIDERS_SHODAN_API_KEY not set, exposure data will be empty")
	}
	enrichment.RegisterProvider(shodan)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println("🔍 Querying providers...")
	fmt.Println("-------------------------------------------")

	record, err := enrichment.Refresh(ctx, *ip)
	if err != nil {
		fmt.Printf("❌ Enrichment failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Printf("❌ Failed to render record: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Enrichment complete!")
	fmt.Println()
	fmt.Println(string(out))
	fmt.Println()
	fmt.Printf("Threat score: %.3f (0 = benign, 1 = hostile)\n", record.ThreatScore)
}
