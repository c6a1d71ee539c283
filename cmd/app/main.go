package main

import (
	"go.uber.org/fx"

	"github.com/Hwoarang91/afrodita-sub000/internal/app"
)

func main() {
	fx.New(app.CreateApp()).Run()
}
