package mirror

import (
	"fmt"

	"github.com/imdevinc/recipe-mirror/internal/config"
	"github.com/imdevinc/recipe-mirror/internal/hub"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/worker"
)

// Register installs the mirror factories on the hub.
func Register() {
	hub.RegisterWorkerFactory(config.MirrorRecipes, func(conf config.MirrorConf, deps hub.Deps) (worker.Worker, error) {
		c, ok := conf.(config.RecipeMirrorConf)
		if !ok {
			return nil, fmt.Errorf("mirror %s: unexpected config %T", conf.GetName(), conf)
		}
		return NewRecipeMirror(RecipeOptions{
			Name:           c.Name,
			Collection:     c.Collection,
			Mode:           recipe.Mode(c.Mode),
			OrderByCreated: c.OrderByCreated,
			DedupSize:      c.DedupSize,
		}, deps.Store, deps.Cache, deps.Remote, deps.Broker, deps.Parser)
	})

	hub.RegisterWorkerFactory(config.MirrorCategories, func(conf config.MirrorConf, deps hub.Deps) (worker.Worker, error) {
		c, ok := conf.(config.CategoryMirrorConf)
		if !ok {
			return nil, fmt.Errorf("mirror %s: unexpected config %T", conf.GetName(), conf)
		}
		return NewCategoryMirror(c.Name, c.Collection, deps.Store, deps.Cache, deps.Remote, deps.Broker, deps.Parser)
	})
}
