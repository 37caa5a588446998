// Command mint_token prints a signed credential for a user id, for local
// testing against the gateway and the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/logger"
)

func main() {
	userID := flag.String("user", "", "user id")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := flag.String("secret", os.Getenv("SECRET_KEY"), "signing secret")
	flag.Parse()

	log := logger.New("info")
	if *userID == "" || *secret == "" {
		log.Fatal("-user and -secret (or SECRET_KEY) are required")
	}
	token, err := auth.GenerateToken([]byte(*secret), *userID, *ttl)
	if err != nil {
		log.Fatal("mint token", zap.Error(err))
	}
	fmt.Println(token)
}
