package main

import (
	"dogfight/internal/server"
	"log"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := server.Run(); err != nil {
		log.Fatalf("dogfight: %v", err)
	}
}
