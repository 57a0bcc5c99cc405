package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsMarket   int64
	errorsAccount  int64
	warnsMarket    int64
	warnsAccount   int64
	pushReads      int64
	pullReads      int64
	archiveWrites  int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "market") || strings.Contains(component, "book") {
		atomic.AddInt64(&warnsMarket, 1)
	} else if strings.Contains(component, "account") {
		atomic.AddInt64(&warnsAccount, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "market") || strings.Contains(component, "book") {
		atomic.AddInt64(&errorsMarket, 1)
	} else if strings.Contains(component, "account") {
		atomic.AddInt64(&errorsAccount, 1)
	}
}

// IncrementPushRead counts one message received on a push transport.
func IncrementPushRead(size int) {
	atomic.AddInt64(&pushReads, 1)
	recordChannel("push_ws", size)
}

// IncrementPullRead counts one full state fetched over the pull transport.
func IncrementPullRead(size int) {
	atomic.AddInt64(&pullReads, 1)
	recordChannel("pull_rest", size)
}

// IncrementArchiveWrite counts one object handed to an archival writer.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("archive_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_market":   atomic.LoadInt64(&errorsMarket),
		"errors_account":  atomic.LoadInt64(&errorsAccount),
		"warns_market":    atomic.LoadInt64(&warnsMarket),
		"warns_account":   atomic.LoadInt64(&warnsAccount),
		"push_reads":      atomic.LoadInt64(&pushReads),
		"pull_reads":      atomic.LoadInt64(&pullReads),
		"archive_writes":  atomic.LoadInt64(&archiveWrites),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Feed-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-ErrorsMarket"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_market"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-ErrorsAccount"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_account"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-WarnsMarket"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_market"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-WarnsAccount"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_account"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-PushReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["push_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-PullReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["pull_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Feed-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Feed-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Feed-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
