package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/thereceipt/spool-engine/internal/command"
)

// ErrUnknownSession is returned for ids that were never created or were
// deleted
var ErrUnknownSession = errors.New("api: unknown session")

const sessionKey = "session"

// handleCreateSession opens a new session
func (s *Server) handleCreateSession(c *gin.Context) {
	sess := s.newSession()
	e := &entry{
		session:  sess,
		executor: command.NewExecutor(sess, s.timeout),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = e
	s.mu.Unlock()

	s.log.Info().Str("session", sess.ID).Msg("session opened")
	c.JSON(201, gin.H{"session": sess.ID, "version": sess.Version()})
}

// handleDeleteSession closes a session, cancelling its pending work
func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		abortWithError(c, ErrUnknownSession)
		return
	}

	e.session.Close()
	s.log.Info().Str("session", id).Msg("session closed")
	c.Status(204)
}

func (s *Server) sessionMiddleware(c *gin.Context) {
	s.mu.RLock()
	e, ok := s.sessions[c.Param("id")]
	s.mu.RUnlock()

	if !ok {
		abortWithError(c, ErrUnknownSession)
		return
	}
	c.Set(sessionKey, e)
	c.Next()
}

func current(c *gin.Context) *entry {
	return c.MustGet(sessionKey).(*entry)
}

func (s *Server) sessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every session
func (s *Server) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}
