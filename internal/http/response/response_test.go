package response

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	apperr "github.com/regardsoss/dataprovider/internal/pkg/errors"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: chain x", apperr.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: label", apperr.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: x", apperr.ErrChainRunning), http.StatusConflict},
		{apperr.ErrConflict, http.StatusConflict},
		{apperr.ErrNotEligible, http.StatusUnprocessableEntity},
		{apperr.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got, _ := StatusFor(tc.err); got != tc.want {
			t.Fatalf("%v: got %d want %d", tc.err, got, tc.want)
		}
	}
}
