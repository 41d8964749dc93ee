package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/content"
)

// writeFunc is the shape shared by the content store's create and update
// methods. Create ignores id.
type writeFunc[T any] func(ctx context.Context, id string, in T, actor string) (T, error)

func createHandler[T any](fn writeFunc[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in T
		if !decode(w, r, &in) {
			return
		}
		out, err := fn(r.Context(), "", in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func updateHandler[T any](fn writeFunc[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in T
		if !decode(w, r, &in) {
			return
		}
		out, err := fn(r.Context(), chi.URLParam(r, "id"), in, auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func deleteHandler(fn func(ctx context.Context, id, actor string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "id"), auth.SubjectFromContext(r.Context())); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getHandler[T any](fn func(ctx context.Context, id string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func listHandler[T any](fn func(ctx context.Context) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := fn(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// mountContent registers the public reads and the managed writes of every
// content kind. Reads attach identity when a token is sent so managers can
// see drafts and inactive services.
func mountContent(r chi.Router, s *content.SQLStore, protect func(perm string) func(http.Handler) http.Handler) {
	r.Route("/blogs", func(br chi.Router) {
		br.Get("/", func(w http.ResponseWriter, r *http.Request) {
			limit, offset := page(r)
			all := queryBool(r, "all") && auth.IdentityFromContext(r.Context()).Can("blog:manage")
			out, err := s.ListBlogs(r.Context(), content.BlogListOpts{
				Q:                  strings.TrimSpace(r.URL.Query().Get("q")),
				IncludeUnpublished: all,
				Limit:              limit,
				Offset:             offset,
			})
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})
		br.Get("/{id}", getHandler(func(ctx context.Context, id string) (content.Blog, error) {
			return s.GetBlog(ctx, id, auth.IdentityFromContext(ctx).Can("blog:manage"))
		}))
		br.With(protect("blog:manage")).Post("/", createHandler(func(ctx context.Context, _ string, in content.Blog, actor string) (content.Blog, error) {
			return s.CreateBlog(ctx, in, actor)
		}))
		br.With(protect("blog:manage")).Put("/{id}", updateHandler(s.UpdateBlog))
		br.With(protect("blog:manage")).Delete("/{id}", deleteHandler(s.DeleteBlog))
	})

	r.Route("/faqs", func(fr chi.Router) {
		fr.Get("/", listHandler(s.ListFAQs))
		fr.Get("/{id}", getHandler(s.GetFAQ))
		fr.With(protect("faq:manage")).Post("/", createHandler(func(ctx context.Context, _ string, in content.FAQ, actor string) (content.FAQ, error) {
			return s.CreateFAQ(ctx, in, actor)
		}))
		fr.With(protect("faq:manage")).Put("/{id}", updateHandler(s.UpdateFAQ))
		fr.With(protect("faq:manage")).Delete("/{id}", deleteHandler(s.DeleteFAQ))
	})

	r.Route("/galleries", func(gr chi.Router) {
		gr.Get("/", listHandler(s.ListGallery))
		gr.Get("/{id}", getHandler(s.GetGalleryItem))
		gr.With(protect("gallery:manage")).Post("/", createHandler(func(ctx context.Context, _ string, in content.GalleryItem, actor string) (content.GalleryItem, error) {
			return s.CreateGalleryItem(ctx, in, actor)
		}))
		gr.With(protect("gallery:manage")).Put("/{id}", updateHandler(s.UpdateGalleryItem))
		gr.With(protect("gallery:manage")).Delete("/{id}", deleteHandler(s.DeleteGalleryItem))
	})

	r.Route("/services", func(sr chi.Router) {
		sr.Get("/", func(w http.ResponseWriter, r *http.Request) {
			all := queryBool(r, "all") && auth.IdentityFromContext(r.Context()).Can("service:manage")
			out, err := s.ListServices(r.Context(), all)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		})
		sr.Get("/{id}", getHandler(func(ctx context.Context, id string) (content.Service, error) {
			return s.GetService(ctx, id, auth.IdentityFromContext(ctx).Can("service:manage"))
		}))
		sr.With(protect("service:manage")).Post("/", createHandler(func(ctx context.Context, _ string, in content.Service, actor string) (content.Service, error) {
			return s.CreateService(ctx, in, actor)
		}))
		sr.With(protect("service:manage")).Put("/{id}", updateHandler(s.UpdateService))
		sr.With(protect("service:manage")).Delete("/{id}", deleteHandler(s.DeleteService))
	})
}
