package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"rentora/config"
	paymentRepo "rentora/database/repository/payment"
	"rentora/models"
	"rentora/services/payment"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
)

// InitPaymentWorker runs the async worker in background. It consumes
// reconciliation tasks for ambiguous gateway outcomes and the periodic
// stale-session sweep.
func InitPaymentWorker(paymentSvc payment.PaymentSessionService, repo paymentRepo.PaymentSessionRepository) {
	redisOpts := asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisTaskDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(models.TaskTypePaymentReconcile, handleReconcileTask(paymentSvc))
	mux.HandleFunc(models.TaskTypeSessionSweep, handleSweepTask(repo))

	// Start Redis health monitor
	go monitorRedisConnection()

	// Schedule the periodic sweep.
	go runSweepScheduler(redisOpts)

	// Start async worker with retry logic
	go func() {
		log.Println("[PaymentWorker] starting async worker...")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				log.Printf("[PaymentWorker] attempt %d/%d failed to start worker: %v", attempts, maxAttempts, err)

				if attempts == maxAttempts {
					log.Fatal("[PaymentWorker] max retry attempts reached. Exiting.")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second) // Exponential backoff
			} else {
				break
			}
		}
	}()
}

func handleReconcileTask(paymentSvc payment.PaymentSessionService) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p models.ReconcilePayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			log.Printf("[ReconcileHandler] invalid payload: %v", err)
			return err
		}

		log.Printf("[ReconcileHandler] reconciling ambiguous outcome for payment %s", p.PaymentID)
		if err := paymentSvc.Reconcile(ctx, p.PaymentID, p.Proof); err != nil {
			log.Printf("[ReconcileHandler] reconciliation failed, will retry: %v", err)
			return err
		}
		return nil
	}
}

func handleSweepTask(repo paymentRepo.PaymentSessionRepository) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		swept, err := repo.CancelStale(time.Now())
		if err != nil {
			log.Printf("[SweepHandler] sweep failed: %v", err)
			return err
		}
		if swept > 0 {
			log.Printf("[SweepHandler] cancelled %d stale payment sessions", swept)
		}
		return nil
	}
}

// runSweepScheduler enqueues the sweep task on a fixed cadence. Clients
// cancel their own sessions on expiry; the sweep catches the ones whose tab
// died before it could.
func runSweepScheduler(redisOpts asynq.RedisClientOpt) {
	scheduler := asynq.NewScheduler(redisOpts, nil)

	spec := fmt.Sprintf("@every %dm", config.AppConfig.SessionSweepMinutes)
	if _, err := scheduler.Register(spec, asynq.NewTask(models.TaskTypeSessionSweep, nil)); err != nil {
		log.Printf("[PaymentWorker] failed to register sweep schedule: %v", err)
		return
	}
	if err := scheduler.Run(); err != nil {
		log.Printf("[PaymentWorker] sweep scheduler stopped: %v", err)
	}
}

// monitorRedisConnection pings Redis periodically to detect failures at runtime.
func monitorRedisConnection() {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisTaskDB,
	})

	ctx := context.Background()

	for {
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[PaymentWorker] Redis connection lost: %v", err)
		}
		time.Sleep(10 * time.Second)
	}
}
