// Command cqlio-bench drives a concurrent insert/select workload against a
// cluster, the way the teacher's gocql/tests/main.go demo benchmark does,
// adapted to the cqlio.Session API and with pkg/profile wired in for
// CPU/heap profiling.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/profile"

	cqlio "github.com/AnalytiksAI/cql-io"
	"github.com/AnalytiksAI/cql-io/frame"
)

const insertStmt = "INSERT INTO benchks.benchtab (pk, v1, v2) VALUES(?, ?, ?)"
const selectStmt = "SELECT v1, v2 FROM benchks.benchtab WHERE pk = ?"
const samples = 20_000

type workload int

const (
	Inserts workload = iota
	Selects
	Mixed
)

type config struct {
	hosts       []string
	concurrency int64
	tasks       int64
	batchSize   int64
	workload    workload
	dontPrepare bool
	profileCPU  bool
	profileMem  bool
}

func readConfig() config {
	hosts := flag.String("hosts", "127.0.0.1", "comma-separated contact points")
	concurrency := flag.Int64("concurrency", 256, "number of concurrent worker goroutines")
	tasks := flag.Int64("tasks", 1_000_000, "total number of operations")
	batchSize := flag.Int64("batch-size", 1000, "work claimed per atomic batch step")
	wl := flag.String("workload", "mixed", "inserts|selects|mixed")
	dontPrepare := flag.Bool("dont-prepare", false, "skip keyspace/table setup")
	profileCPU := flag.Bool("profile-cpu", false, "enable CPU profiling")
	profileMem := flag.Bool("profile-mem", false, "enable heap profiling")
	flag.Parse()

	var w workload
	switch strings.ToLower(*wl) {
	case "inserts":
		w = Inserts
	case "selects":
		w = Selects
	default:
		w = Mixed
	}

	return config{
		hosts:       strings.Split(*hosts, ","),
		concurrency: *concurrency,
		tasks:       *tasks,
		batchSize:   *batchSize,
		workload:    w,
		dontPrepare: *dontPrepare,
		profileCPU:  *profileCPU,
		profileMem:  *profileMem,
	}
}

func main() {
	cfg := readConfig()
	log.Printf("cql-io-bench configuration: %+v\n", cfg)

	if cfg.profileCPU && cfg.profileMem {
		log.Fatal("select one profile type")
	}
	if cfg.profileCPU {
		log.Println("running with CPU profiling")
		defer profile.Start(profile.CPUProfile).Stop()
	}
	if cfg.profileMem {
		log.Println("running with heap profiling")
		defer profile.Start(profile.MemProfile).Stop()
	}

	sessCfg := cqlio.DefaultSessionConfig("benchks", cfg.hosts...)
	session, err := cqlio.NewSession(sessCfg)
	if err != nil {
		log.Fatalf("cql-io-bench: connect: %v", err)
	}
	defer session.Close()

	if !cfg.dontPrepare {
		prepareKeyspaceAndTable(session)
	}

	var wg sync.WaitGroup
	nextBatchStart := int64(0)

	log.Println("starting the benchmark")
	startTime := time.Now()

	selectCh := make(chan time.Duration, 2*samples)
	insertCh := make(chan time.Duration, 2*samples)

	for i := int64(0); i < cfg.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			insertQ := session.Prepare(insertStmt)
			selectQ := session.Prepare(selectStmt)

			for {
				curBatchStart := atomic.AddInt64(&nextBatchStart, cfg.batchSize) - cfg.batchSize
				if curBatchStart >= cfg.tasks {
					return
				}
				curBatchEnd := min64(curBatchStart+cfg.batchSize, cfg.tasks)

				for pk := curBatchStart; pk < curBatchEnd; pk++ {
					sample := rand.Int63n(cfg.tasks) < samples

					if cfg.workload == Inserts || cfg.workload == Mixed {
						start := time.Now()
						if _, err := insertQ.ResetBindings().Bind(int64Value(pk)).Bind(int64Value(2 * pk)).Bind(int64Value(3 * pk)).Exec(); err != nil {
							log.Fatalf("cql-io-bench: insert: %v", err)
						}
						if sample {
							insertCh <- time.Since(start)
						}
					}

					if cfg.workload == Selects || cfg.workload == Mixed {
						start := time.Now()
						res, err := selectQ.ResetBindings().Bind(int64Value(pk)).Exec()
						if err != nil {
							log.Fatalf("cql-io-bench: select: %v", err)
						}
						if len(res.Rows) != 1 {
							log.Fatalf("cql-io-bench: expected 1 row for pk=%d, got %d", pk, len(res.Rows))
						}
						if sample {
							selectCh <- time.Since(start)
						}
					}
				}
			}
		}()
	}

	wg.Wait()
	benchTime := time.Since(startTime)

	fmt.Printf("time %d\n", benchTime.Milliseconds())
	printLatencyInfo("select", selectCh)
	printLatencyInfo("insert", insertCh)
	log.Printf("finished\nbenchmark time: %d ms\n", benchTime.Milliseconds())
}

func int64Value(v int64) frame.Value {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
	return frame.Value{Bytes: b}
}

func printLatencyInfo(name string, ch chan time.Duration) {
	cnt := len(ch)
	for i := 0; i < cnt; i++ {
		fmt.Printf("%s %d\n", name, (<-ch).Nanoseconds())
	}
}

func prepareKeyspaceAndTable(session *cqlio.Session) {
	if _, err := session.Query("DROP KEYSPACE IF EXISTS benchks").Exec(); err != nil {
		log.Fatalf("cql-io-bench: drop keyspace: %v", err)
	}
	if _, err := session.Query("CREATE KEYSPACE IF NOT EXISTS benchks WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1}").Exec(); err != nil {
		log.Fatalf("cql-io-bench: create keyspace: %v", err)
	}
	if _, err := session.Query("CREATE TABLE IF NOT EXISTS benchks.benchtab (pk bigint PRIMARY KEY, v1 bigint, v2 bigint)").Exec(); err != nil {
		log.Fatalf("cql-io-bench: create table: %v", err)
	}
	time.Sleep(time.Second)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
