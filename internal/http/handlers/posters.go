package handlers

import (
	"net/http"
)

type posterItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SwapSide string `json:"swap_side"`
	ImageURL string `json:"image_url"`
}

func (a *App) PostersList(w http.ResponseWriter, r *http.Request) {
	all := a.Catalog.List()
	items := make([]posterItem, 0, len(all))
	for _, p := range all {
		items = append(items, posterItem{
			ID:       p.ID,
			Name:     p.Name,
			SwapSide: string(p.Side),
			ImageURL: a.resultURL(p.ImageKey),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"posters": items})
}
