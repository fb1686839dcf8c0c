package aggregate

// Metadata describes the raw data behind the aggregates of one asset
type Metadata struct {
	GeneratedAt       string            `json:"generated_at"`
	Symbol            string            `json:"symbol"`
	TotalRecords      int               `json:"total_records"`
	DateRange         DateRange         `json:"date_range"`
	CSVFilesProcessed int               `json:"csv_files_processed"`
	Assets            []string          `json:"assets"`
	Exchanges         []string          `json:"exchanges"`
	DataPoints        map[string]string `json:"data_points"`
	UpdateFrequency   string            `json:"update_frequency"`
	FileRotation      string            `json:"file_rotation"`
}

// DateRange is the first and last sample time
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Index lists the files available for one asset
type Index struct {
	GeneratedAt   string   `json:"generated_at"`
	CSVSources    []string `json:"csv_sources"`
	DailyFiles    []string `json:"daily_files"`
	ArchiveFiles  []string `json:"archive_files"`
	ChartFiles    []string `json:"chart_files"`
	MetadataFiles []string `json:"metadata_files"`
}

// parquetPoint represents one aggregate point for parquet
type parquetPoint struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, encoding=DELTA_BINARY_PACKED"`
	Date      string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Price     float64 `parquet:"name=price, type=DOUBLE, encoding=PLAIN"`
	Bid       float64 `parquet:"name=bid, type=DOUBLE, encoding=PLAIN"`
	Ask       float64 `parquet:"name=ask, type=DOUBLE, encoding=PLAIN"`
	Spread    float64 `parquet:"name=spread, type=DOUBLE, encoding=PLAIN"`
	SpreadPct float64 `parquet:"name=spread_pct, type=DOUBLE, encoding=PLAIN"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE, encoding=PLAIN"`
}
