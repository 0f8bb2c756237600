// cmd/snake/main.go
package main

import (
	"github.com/arcadelab/arcade/internal/games/snake"
	"github.com/arcadelab/arcade/internal/match"
)

func main() {
	match.ArtifactMain(func(p1, p2 string, seed int64) match.Game {
		return snake.New(p1, p2, seed)
	})
}
