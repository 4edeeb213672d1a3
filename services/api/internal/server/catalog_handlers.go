package server

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"bookstore/pkg/domain"
	"bookstore/services/api/internal/app"
)

type ratingRequest struct {
	Value   int    `json:"value"`
	Comment string `json:"comment"`
}

type ratingsResponse struct {
	paged
	AverageRating decimal.Decimal `json:"averageRating"`
	RatingCount   int64           `json:"ratingCount"`
}

// categories

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	result, err := s.app.ListCategories(r.Context(), keyword(r), page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pageOf(result))
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := s.app.GetCategory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, category)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.CategoryInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	category, err := s.app.CreateCategory(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, category)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.CategoryInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	category, err := s.app.UpdateCategory(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, category)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteCategory(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// authors

func (s *Server) handleListAuthors(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	result, err := s.app.ListAuthors(r.Context(), keyword(r), page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pageOf(result))
}

func (s *Server) handleGetAuthor(w http.ResponseWriter, r *http.Request) {
	author, err := s.app.GetAuthor(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, author)
}

func (s *Server) handleCreateAuthor(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.AuthorInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	author, err := s.app.CreateAuthor(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, author)
}

func (s *Server) handleUpdateAuthor(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.AuthorInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	author, err := s.app.UpdateAuthor(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, author)
}

func (s *Server) handleDeleteAuthor(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteAuthor(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// books

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	q := r.URL.Query()
	result, err := s.app.ListBooks(r.Context(), app.BookQuery{
		Keyword:    keyword(r),
		CategoryID: strings.TrimSpace(q.Get("categoryId")),
		AuthorID:   strings.TrimSpace(q.Get("authorId")),
		Sort:       q.Get("sort"),
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, pageOf(result))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, book)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.BookInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	book, err := s.app.CreateBook(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	var req app.BookInput
	if !decodeJSON(w, r, &req, false) {
		return
	}
	book, err := s.app.UpdateBook(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteBook(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// handleBookImageTicket hands out a presigned form; the browser uploads the
// cover straight to object storage and then calls handleConfirmBookImage.
func (s *Server) handleBookImageTicket(w http.ResponseWriter, r *http.Request, _ domain.User) {
	ticket, err := s.app.BookImageUploadTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ticket)
}

func (s *Server) handleConfirmBookImage(w http.ResponseWriter, r *http.Request, _ domain.User) {
	book, err := s.app.ConfirmBookImage(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, book)
}

// ratings

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	ratings, err := s.app.ListRatings(r.Context(), r.PathValue("id"), page, size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ratingsResponse{
		paged:         pageOf(ratings.Page),
		AverageRating: ratings.Average,
		RatingCount:   ratings.Count,
	})
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req ratingRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	rating, err := s.app.SubmitRating(r.Context(), user.ID, r.PathValue("id"), req.Value, req.Comment)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, rating)
}
