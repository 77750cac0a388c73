package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"campusattend/internal/attendance"
	"campusattend/internal/config"
	"campusattend/internal/queue"
	"campusattend/internal/roster"
	"campusattend/internal/store"
)

// Sweeper closes out unattended sessions: a ticker finds sessions whose
// sign-in window has ended and publishes reconcile jobs; the consumer loop
// drains them and inserts Absent records. The redis-backed queue lets several
// replicas share the work; reconciliation is idempotent so overlap is safe.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:reconcile")
	}

	repo := attendance.NewRepository(db.Client)
	registry := roster.NewRepository(db.Client)
	svc := attendance.NewService(repo, registry, redisClient, attendance.Options{
		TokenTTL:        cfg.TokenTTL,
		LateThreshold:   cfg.LateThreshold,
		DefaultDuration: cfg.DefaultDuration,
	})

	go publishEnded(ctx, svc, q, cfg.SweepInterval)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("sweeper started, waiting for reconcile jobs...")
	for msg := range messages {
		if msg.Type != "reconcile" {
			continue
		}

		assignmentID, date, ok := decodeJob(string(msg.Body))
		if !ok {
			log.Printf("skipping malformed reconcile job %q", msg.Body)
			continue
		}

		marked, err := svc.Reconcile(ctx, assignmentID, date, time.Now())
		if err != nil {
			if errors.Is(err, attendance.ErrWindowStillOpen) {
				// Clock skew between publisher and consumer; the next sweep
				// will pick the session up again.
				continue
			}
			log.Printf("reconcile %s on %s failed: %v", assignmentID, date, err)
			continue
		}
		if marked > 0 {
			log.Printf("reconciled %s on %s: %d marked absent", assignmentID, date, marked)
		}
	}
}

// publishEnded periodically scans for sessions whose window has closed and
// enqueues one reconcile job per session.
func publishEnded(ctx context.Context, svc *attendance.Service, q queue.Queue, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ended, err := svc.SweepEnded(ctx, time.Now())
		if err != nil {
			log.Printf("sweep scan failed: %v", err)
			continue
		}
		for _, session := range ended {
			job := queue.Message{Type: "reconcile", Body: []byte(encodeJob(session.AssignmentID, session.Date))}
			if err := q.Publish(ctx, job); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}
	}
}

func encodeJob(assignmentID, date string) string {
	return assignmentID + "|" + date
}

func decodeJob(body string) (assignmentID, date string, ok bool) {
	i := strings.LastIndex(body, "|")
	if i < 0 {
		return "", "", false
	}
	return body[:i], body[i+1:], true
}
