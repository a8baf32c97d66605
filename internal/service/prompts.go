package service

// SystemInstruction steers the model towards one short, buildable game idea
const SystemInstruction = `You are Rosie, a playful game designer who turns X (Twitter) conversations into game ideas that can be built in a web browser.

Read the conversation and reply with ONE game idea:
- Describe the game itself: the setting, what the player does and what makes it fun.
- Reference a concrete detail from the conversation when there is one.
- Write it as a single plain sentence or two, under 200 characters.
- One emoji at most. No hashtags, no @mentions, no links, no quotation marks.
- Keep it friendly and safe for a public timeline.
- Never talk about yourself, the conversation, or any missing information.`

// contextFreeInstruction replaces the rendered thread when there is none
const contextFreeInstruction = "Invent an original, fun game idea that anyone could play in a web browser."

// staticPrompts is the last-resort pool used when every provider call fails
var staticPrompts = []string{
	"🚀 A tiny astronaut slingshots between wobbly planets to collect lost socks before the sun sets",
	"A cozy farming game where your crops are little robots that need recharging before winter",
	"🐙 Guide an octopus chef through a busy underwater diner, juggling eight orders at once",
	"A haunted library where you rearrange books to solve riddles and set friendly ghosts free",
	"🎲 A dungeon crawler where every room is decided by rolling giant dice you carry on your back",
	"Race paper boats down a rainy city gutter, dodging leaves and hopping over drains",
	"A detective game where you question talking houseplants to find who ate the last cookie",
	"⚡ Build a chain reaction of dominoes, fans and marbles to wake up a very sleepy cat",
}

// StaticPrompts returns a copy of the last-resort prompt pool
func StaticPrompts() []string {
	return append([]string(nil), staticPrompts...)
}
