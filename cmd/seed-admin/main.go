// seed-admin creates or updates the operations console user (username:
// marketsyncAdmin) and mints it a ready-to-use session token. Admin users
// may act on any seller via the seller_id query parameter.
//
// Usage:
//   DB_* REDIS_* API_SECRET=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/config"
	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"bitbucket.org/mmdatafocus/marketsync_backend/utils"
	"gorm.io/gorm"
)

const adminUsername = "marketsyncAdmin"

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	var user models.User
	err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Take(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		user = models.User{
			Username: adminUsername,
			Role:     models.UserRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user %q\n", adminUsername)
	} else {
		if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]interface{}{
			"role": models.UserRoleAdmin,
		}).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated admin user %q\n", adminUsername)
	}
	_ = config.RemoveRedisKey("User:" + adminUsername)

	lifespanHours := 720
	if v := os.Getenv("TOKEN_HOUR_LIFESPAN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lifespanHours = n
		}
	} else {
		os.Setenv("TOKEN_HOUR_LIFESPAN", strconv.Itoa(lifespanHours))
	}

	token, err := utils.JwtGenerate(user.ID, user.Role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}
	if err := config.SetRedisValue("Token:"+token, adminUsername, time.Duration(lifespanHours)*time.Hour); err != nil {
		fmt.Fprintf(os.Stderr, "failed to store session: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Session token (pass as the token header):\n%s\n", token)
}
