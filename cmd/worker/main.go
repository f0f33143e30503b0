package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Heyykrishnna/elysiardev-sub001/internal/attendance"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/config"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/queue"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/store"
)

// Worker consumes recorded-attendance messages and fans out notifications.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		q = queue.NewRedisQueue(redisClient.Client, "elysiar:attendance")
	}

	repo := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "attendance.recorded" {
			continue
		}

		id := string(msg.Body)
		rec, err := repo.GetRecord(ctx, id)
		if err != nil {
			log.Printf("fetch record %s failed: %v", id, err)
			continue
		}

		message := fmt.Sprintf("Attendance marked for %s on %s", rec.Class, rec.ClassDate)
		if err := repo.InsertNotification(ctx, rec.StudentID, rec.ID, message); err != nil {
			log.Printf("notification insert failed for %s: %v", id, err)
			continue
		}
		log.Printf("notified %s: %s", rec.StudentID, message)
	}

	log.Println("worker stopped")
}
