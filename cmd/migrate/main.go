package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"paletteledger/config"
	"paletteledger/internal/pkg/database"
)

// Uso: migrate [up|down|status|redo|version] [args...]. As migrações vão embutidas no binário.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️ Aviso: arquivo .env não encontrado; usando apenas o ambiente do sistema: %v", err)
	}

	cfg := config.LoadConfig()
	flag.Parse()

	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = 2
	pool.MaxIdleConns = 1
	db, err := database.NewPostgresDB(cfg.DatabaseURL, pool)
	if err != nil {
		log.Fatalf("goose: falha ao conectar ao DB: %v\n", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("goose: falha ao fechar o DB: %v\n", err)
		}
	}()

	arguments := flag.Args()
	if len(arguments) == 0 {
		arguments = []string{"up"}
	}

	command := arguments[0]
	if err := database.Migrate(db, command, arguments[1:]...); err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Printf("goose %s concluído\n", command)
}
