package recipe

// MergeLocal copies state that only the device owns from existing into
// incoming. existing may be nil, in which case incoming keeps its defaults.
//
// In ModeHome the descriptive fields a narrow pass does not read are also
// carried forward, so a home pass never regresses data a full pass wrote.
func MergeLocal(incoming *Recipe, existing *Recipe, mode Mode) {
	if existing == nil {
		return
	}

	incoming.IsFavorite = existing.IsFavorite
	incoming.LikeOverride = existing.LikeOverride
	incoming.LastViewed = existing.LastViewed

	if mode != ModeHome {
		return
	}

	incoming.Description = existing.Description
	incoming.Ingredients = existing.Ingredients
	incoming.Steps = existing.Steps
	incoming.AuthorName = existing.AuthorName
	incoming.AuthorAvatar = existing.AuthorAvatar
}
