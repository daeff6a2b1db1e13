package testutil

import (
	"os"

	"github.com/ethaccount/userop/src/utils"
	"github.com/joho/godotenv"
)

// GetEnv reads key from the environment, loading the project .env first when present
func GetEnv(key string) string {
	_ = godotenv.Load(utils.ProjectPath(".env"))
	return os.Getenv(key)
}
