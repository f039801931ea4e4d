package server

import (
	"encoding/base64"
	"strings"

	"github.com/picomail/imapmock"
	"github.com/picomail/imapmock/wire"
)

func handleLogin(c *Conn, cmd *wire.Command) error {
	if c.State != imapmock.NotAuthenticatedState {
		return NoErr("Already logged in")
	}
	if err := requireArgs(cmd, 2); err != nil {
		return err
	}
	username := cmd.Args[0].Str()
	password := cmd.Args[1].Str()

	if !c.server.Login(username, password) {
		c.logger.Info("login failed", "user", username)
		return NoErr("Login failed: authentication failure")
	}
	c.User = username
	c.State = imapmock.AuthenticatedState
	c.logger.Info("login", "user", username)
	c.OK(cmd, "User logged in")
	return nil
}

func handleAuthenticate(c *Conn, cmd *wire.Command) error {
	if c.State != imapmock.NotAuthenticatedState {
		return NoErr("Already logged in")
	}
	if err := requireArgs(cmd, 1); err != nil {
		return err
	}
	mech := strings.ToUpper(cmd.Args[0].Str())
	factory := c.server.SASLMechanism(mech)
	if factory == nil {
		return NoErr("Unsupported authentication mechanism")
	}
	srv := factory(c)

	var response []byte
	if len(cmd.Args) > 1 {
		// initial response; "=" stands for the empty string
		ir := cmd.Args[1].Str()
		if ir != "=" {
			decoded, err := base64.StdEncoding.DecodeString(ir)
			if err != nil {
				return BadErr("Invalid initial response")
			}
			response = decoded
		} else {
			response = []byte{}
		}
	}

	for {
		challenge, done, err := srv.Next(response)
		if err != nil {
			return NoErr("%s", err.Error())
		}
		if done {
			break
		}

		c.SendContinuation(base64.StdEncoding.EncodeToString(challenge))
		line, err := c.ReadContinuation(0)
		if err != nil {
			return nil
		}
		if string(line) == "*" {
			return BadErr("Authentication cancelled")
		}
		response, err = base64.StdEncoding.DecodeString(string(line))
		if err != nil {
			return BadErr("Invalid base64 response")
		}
	}

	c.State = imapmock.AuthenticatedState
	c.logger.Info("authenticate", "mechanism", mech, "user", c.User)
	c.OK(cmd, "User logged in")
	return nil
}
