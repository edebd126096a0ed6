package prompt

const generateSystem = `You are a robotics behavior tree expert.
You write behavior trees in BehaviorTree.CPP XML, BTCPP_format 4.
Answer with exactly one <root BTCPP_format="4"> ... </root> document and nothing else.
Do NOT include explanations, markdown or structured lists.`

const chatSystem = `You are a robotics behavior tree expert.
Answer questions about behavior trees, BehaviorTree.CPP and the tree built so far in this conversation.
Be concise. Only output XML when the user explicitly asks for it.`

const generateUser = `Please extract the key behavior tree nodes (actions, conditions, sequences, selectors, decorators, etc.) from the following scenario description.
Then format and return ONLY the entire behavior tree as proper BTCPP_format 4 BT XML.
Return ONLY the XML inside a single <root> element.

The description is:
"""
{{.Description}}
"""`

const modifyUser = `Here is the current behavior tree:
"""
{{.Artifact}}
"""

Apply the following modification to it:
"""
{{.Instruction}}
"""

Return ONLY the complete modified behavior tree as BTCPP_format 4 BT XML inside a single <root> element.`

const chatUser = `{{if .Artifact}}The current behavior tree is:
"""
{{.Artifact}}
"""

{{end}}{{.Message}}`

const fromRowUser = `Design a behavior tree for the robot mission described by the requirements below.
Extract the actions, conditions, sequences, selectors and decorators the mission needs, and make the tree robust to the listed uncertainties.
Return ONLY the entire behavior tree as BTCPP_format 4 BT XML inside a single <root> element.

{{.Requirements}}`
