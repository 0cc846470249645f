// Command blueflow runs a conversation-flow bot on the Telegram Bot API.
package main

func main() {
	Execute()
}
