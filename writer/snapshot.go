package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "perpflow/config"
	"perpflow/internal/metadata"
	"perpflow/logger"
	"perpflow/models"
)

// ParquetRecord is the on-disk schema for archived order book rows.
type ParquetRecord struct {
	Venue     string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind      string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Sequence  int64   `parquet:"name=sequence, type=INT64"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Size      float64 `parquet:"name=size, type=DOUBLE"`
	Level     int32   `parquet:"name=level, type=INT32"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// SnapshotWriter archives flattened order book batches as parquet files in
// S3, partitioned by venue, symbol and hour, and keeps Iceberg style
// metadata alongside.
type SnapshotWriter struct {
	config      *appconfig.Config
	batches     <-chan models.BookBatch
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.BookRow
	flushTicker *time.Ticker
	metaGen     *metadata.Generator
}

func NewSnapshotWriter(cfg *appconfig.Config, batches <-chan models.BookBatch) (*SnapshotWriter, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_writer").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	metaDir, err := os.MkdirTemp("", "perpflow-meta")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	gen := metadata.NewGenerator(metaDir, cfg.Perpflow.Name)

	w := &SnapshotWriter{
		config:   cfg,
		batches:  batches,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
		metaGen:  gen,
	}

	log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("s3 writer initialized")

	return w, nil
}

func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("s3 writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting s3 writer")

	w.buffer = make(map[string][]models.BookRow)
	w.flushTicker = time.NewTicker(w.config.Writer.FlushInterval)

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushWorker()

	return nil
}

func (w *SnapshotWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.log.WithComponent("s3_writer").Info("stopping s3 writer")
	w.wg.Wait()
	w.log.WithComponent("s3_writer").Info("s3 writer stopped")
}

func (w *SnapshotWriter) worker() {
	defer w.wg.Done()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"worker": "s3_writer"})
	log.Info("starting s3 writer worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.batches:
			if !ok {
				log.Info("batch channel closed, worker stopping")
				return
			}
			w.addBatch(batch)
		}
	}
}

func (w *SnapshotWriter) addBatch(batch models.BookBatch) {
	key := w.bufferKey(batch.Venue, batch.Symbol)
	w.mu.Lock()
	w.buffer[key] = append(w.buffer[key], batch.Rows...)
	full := w.config.Writer.MaxBuffered > 0 && len(w.buffer[key]) >= w.config.Writer.MaxBuffered
	w.mu.Unlock()

	if full {
		w.flushBuffers("buffer_full")
	}
}

func (w *SnapshotWriter) bufferKey(venue, symbol string) string {
	return venue + "|" + symbol
}

func (w *SnapshotWriter) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flushBuffers("interval")
		}
	}
}

func (w *SnapshotWriter) flushBuffers(reason string) {
	w.mu.Lock()
	buffers := w.buffer
	w.buffer = make(map[string][]models.BookRow)
	w.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for key, rows := range buffers {
		if len(rows) == 0 {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		batch := models.BookBatch{
			BatchID:     uuid.New().String(),
			Venue:       parts[0],
			Symbol:      parts[1],
			Rows:        rows,
			RecordCount: len(rows),
			Timestamp:   time.Now().UTC(),
		}
		w.processBatch(batch)
	}
}

func (w *SnapshotWriter) processBatch(batch models.BookBatch) {
	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"venue":        batch.Venue,
		"symbol":       batch.Symbol,
		"record_count": batch.RecordCount,
		"operation":    "process_batch",
	})

	if batch.RecordCount == 0 {
		log.Debug("batch has no records, skipping")
		return
	}

	s3Key := w.generateS3Key(batch)
	log = log.WithFields(logger.Fields{"s3_key": s3Key})

	parquetData, fileSize, err := w.createParquetFile(batch.Rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := w.uploadToS3(s3Key, parquetData); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket, "s3_key": s3Key}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementArchiveWrite(int64(batch.RecordCount))
	log.WithFields(logger.Fields{"file_size": fileSize}).Info("batch archived")

	df := metadata.DataFile{
		Path:        fmt.Sprintf("s3://%s/%s", w.config.Storage.S3.Bucket, s3Key),
		FileSize:    fileSize,
		RecordCount: int64(batch.RecordCount),
		Partition:   metadata.PartitionFor(batch.Venue, batch.Symbol, batch.Timestamp),
		Timestamp:   batch.Timestamp,
	}
	if err := w.metaGen.AddFile(df); err != nil {
		log.WithError(err).Warn("failed to update metadata")
	}
}

func (w *SnapshotWriter) generateS3Key(batch models.BookBatch) string {
	timestamp := batch.Timestamp

	parts := []string{
		fmt.Sprintf("venue=%s", batch.Venue),
		fmt.Sprintf("symbol=%s", batch.Symbol),
		fmt.Sprintf("year=%04d", timestamp.Year()),
		fmt.Sprintf("month=%02d", timestamp.Month()),
		fmt.Sprintf("day=%02d", timestamp.Day()),
		fmt.Sprintf("hour=%02d", timestamp.Hour()),
	}

	ts := timestamp.UTC().Format("20060102150405")
	filename := fmt.Sprintf("%s_book_%s_%s.parquet", batch.Venue, batch.Symbol, ts)

	key := filepath.Join(append(parts, filename)...)
	return filepath.ToSlash(key)
}

func (w *SnapshotWriter) createParquetFile(rows []models.BookRow) ([]byte, int64, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.config.Writer.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		record := ParquetRecord{
			Venue:     row.Venue,
			Symbol:    row.Symbol,
			Kind:      row.Kind,
			Timestamp: row.Timestamp,
			Sequence:  row.Sequence,
			Side:      row.Side,
			Price:     row.Price,
			Size:      row.Size,
			Level:     int32(row.Level),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()
	return data, int64(len(data)), nil
}

func (w *SnapshotWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      w.config.Writer.Compression,
			"perpflow-version": w.config.Perpflow.Version,
		},
	}

	// uploads outlive a shutdown so buffered rows are not lost
	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}
