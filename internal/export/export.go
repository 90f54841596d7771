package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tokenscope/tokenscope/internal/types"
)

// Format is the export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options configures the export behavior.
type Options struct {
	Format    Format
	OutputDir string
	OnlyLarge bool // export only the large-transfer subset in CSV mode
}

// ResultExporter writes one analysis run to disk.
type ResultExporter struct {
	logger *zap.Logger
}

// NewResultExporter creates a result exporter.
func NewResultExporter(logger *zap.Logger) *ResultExporter {
	return &ResultExporter{logger: logger.Named("export")}
}

// Export writes the result in the requested format and returns the file path.
func (e *ResultExporter) Export(result *types.TokenMetrics, options Options) (string, error) {
	if result == nil {
		return "", fmt.Errorf("nothing to export")
	}

	if err := os.MkdirAll(options.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(options.OutputDir, e.generateFilename(result, options.Format))

	var err error
	switch options.Format {
	case FormatCSV:
		err = e.exportToCSV(result, outputPath, options.OnlyLarge)
	case FormatJSON:
		err = e.exportToJSON(result, outputPath)
	default:
		err = fmt.Errorf("unsupported format: %s", options.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Analysis exported",
		zap.String("file", outputPath),
		zap.Int("transfers", len(result.Transfers)),
		zap.String("format", string(options.Format)))

	return outputPath, nil
}

func (e *ResultExporter) generateFilename(result *types.TokenMetrics, format Format) string {
	symbol := result.Token.Symbol
	if symbol == "" || symbol == "???" {
		symbol = "token"
	}
	return fmt.Sprintf("tokenscope_%s_%s.%s", symbol, time.Now().Format("20060102_150405"), format)
}

func (e *ResultExporter) exportToCSV(result *types.TokenMetrics, path string, onlyLarge bool) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	transfers := result.Transfers
	if onlyLarge {
		transfers = result.LargeTransfers
	}
	return writeTransfersCSV(file, transfers)
}

func writeTransfersCSV(w io.Writer, transfers []types.Transfer) error {
	writer := csv.NewWriter(w)

	header := []string{"tx_hash", "from", "to", "amount", "timestamp", "timestamp_estimated", "large"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, transfer := range transfers {
		record := []string{
			transfer.TxHash,
			transfer.From,
			transfer.To,
			transfer.Amount,
			strconv.FormatInt(transfer.Timestamp, 10),
			strconv.FormatBool(transfer.TimestampEstimated),
			strconv.FormatBool(transfer.Large),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	// Flush before checking so buffered write failures are surfaced.
	writer.Flush()
	return writer.Error()
}

func (e *ResultExporter) exportToJSON(result *types.TokenMetrics, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create JSON file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}
