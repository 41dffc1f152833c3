package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/application/service"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/external/openai"
	"github.com/garyjia/invoice-matcher/internal/invoice"
)

var extMediaTypes = map[string]string{
	".pdf":  entity.MediaTypePDF,
	".jpg":  entity.MediaTypeJPEG,
	".jpeg": entity.MediaTypeJPEG,
	".png":  entity.MediaTypePNG,
	".webp": entity.MediaTypeWebP,
}

func main() {
	// Parse command line flags
	apiKey := flag.String("key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	baseURL := flag.String("base-url", "", "OpenAI-compatible API base URL")
	model := flag.String("model", "gpt-4o", "Vision model")
	timeout := flag.Duration("timeout", 60*time.Second, "API call timeout")
	inRate := flag.Float64("input-rate", 250, "Input price in cents per million tokens")
	outRate := flag.Float64("output-rate", 1000, "Output price in cents per million tokens")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: check-extraction [flags] <invoice.pdf|jpg|png|webp>\n")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	// Initialize logger
	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger = zap.NewNop()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Get API key from flag or environment
	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "ERROR: OPENAI_API_KEY not set and no --key flag provided\n")
		os.Exit(1)
	}

	mediaType, ok := extMediaTypes[strings.ToLower(filepath.Ext(path))]
	if !ok {
		fmt.Fprintf(os.Stderr, "ERROR: unsupported file extension %q\n", filepath.Ext(path))
		os.Exit(1)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	if !invoice.ValidateSignature(data, mediaType) {
		fmt.Fprintf(os.Stderr, "ERROR: %s content does not match %s\n", path, mediaType)
		os.Exit(1)
	}

	fmt.Println("=== Invoice Extraction Check ===")
	fmt.Printf("  File: %s (%s, %d bytes)\n", path, mediaType, len(data))
	fmt.Printf("  Model: %s\n", *model)
	fmt.Printf("  Timeout: %v\n", *timeout)
	fmt.Println()

	extractor, err := openai.NewExtractor(openai.Config{
		APIKey:  *apiKey,
		BaseURL: *baseURL,
		Model:   *model,
		Timeout: *timeout,
	}, invoice.NewPDFRasterizer(invoice.DefaultMaxPages, logger), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	startTime := time.Now()
	result, err := extractor.Extract(context.Background(), data, mediaType, filepath.Base(path))
	duration := time.Since(startTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ ERROR: extraction call failed\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		fmt.Fprintf(os.Stderr, "Possible causes:\n")
		fmt.Fprintf(os.Stderr, "  1. Invalid or expired OPENAI_API_KEY\n")
		fmt.Fprintf(os.Stderr, "  2. Network connectivity issue or timeout\n")
		fmt.Fprintf(os.Stderr, "  3. Model does not accept image input\n")
		os.Exit(1)
	}

	cost := service.NewCostEstimator(*inRate, *outRate).CostCents(result.TokensIn, result.TokensOut)

	fmt.Printf("✓ Response in %v\n\n", duration)
	printResult(result, cost)
}

func printResult(result *port.ExtractionResult, costCents int64) {
	show := func(label string, v *string) {
		if v == nil {
			fmt.Printf("  %-15s -\n", label)
			return
		}
		fmt.Printf("  %-15s %s\n", label, *v)
	}

	fmt.Println("=== Extracted Fields ===")
	if result.Amount != nil {
		fmt.Printf("  %-15s %.2f\n", "Amount:", *result.Amount)
	} else {
		fmt.Printf("  %-15s -\n", "Amount:")
	}
	show("Date:", result.Date)
	show("Vendor:", result.Vendor)
	show("Invoice no.:", result.InvoiceNumber)

	fmt.Println("\n=== Usage ===")
	fmt.Printf("  Model:      %s\n", result.Model)
	fmt.Printf("  Tokens in:  %d\n", result.TokensIn)
	fmt.Printf("  Tokens out: %d\n", result.TokensOut)
	fmt.Printf("  Cost:       %d cents\n", costCents)

	fmt.Println("\n=== Raw Reply ===")
	var pretty map[string]interface{}
	if err := json.Unmarshal([]byte(invoice.ExtractJSONObject(result.RawText)), &pretty); err == nil {
		b, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(b))
	} else {
		fmt.Println(result.RawText)
	}
}
